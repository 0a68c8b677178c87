package tern

// Version of the tern engine. It is injected into the binaries at
// build time.
const Version = "1.2.0"

// BuildDate is set during the build of the release binaries.
var BuildDate = "unset"
