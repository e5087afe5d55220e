package version

// Version is overwritten at build time with -ldflags "-X .../pkg/version.Version=...".
var Version = "dev"
