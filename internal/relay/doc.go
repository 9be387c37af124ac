// Package relay implements the signaling and chunked-transfer relay core:
// the Session Registry, Liveness Monitor, Transfer Table, and Router that
// together multiplex many peer devices over duplex channels and stream
// file chunks between arbitrary pairs of them without ever persisting a
// byte of file content.
package relay
