package version

// Version is overridden at build time with -ldflags "-X keyward/internal/version.Version=...".
var Version = "dev"
