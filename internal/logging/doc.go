// Package logging builds the logger shared by the redirector executables.
//
// Output is human-readable console-encoded lines on standard output. Message
// texts are written verbatim so operators can grep for them.
package logging
