// Package tcp is cftp's reference transport, built on plain TCP: a
// net.Listener-backed control connection acceptor, which sets
// SO_REUSEADDR/SO_REUSEPORT where the platform supports it, and a
// PassiveFactory[net.Conn] for data connections.
package tcp
