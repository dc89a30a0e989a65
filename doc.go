// Package cftp provides all the tools to build your own FTP(S) server: the
// control-channel protocol core plus the pluggable handler contract it
// drives. It does not open sockets, authenticate anyone or touch a
// filesystem by itself — see the drivers subpackages and example/cmd/cftpd
// for reference collaborators that do.
package cftp
