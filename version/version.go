package version

// Version is the semantic version of the hce-backend build.
const Version = "0.3.0"
