// Package afero is cftp's reference storage backend: a cftp.Handler[net.Conn]
// jailing every authenticated user under their own directory of an
// afero.Fs.
package afero
