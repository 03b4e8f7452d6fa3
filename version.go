package tillflow

// Version is the library and CLI version.
var Version = "0.4.0"
