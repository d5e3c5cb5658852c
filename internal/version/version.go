package version

// Value is the build version, overridden at link time via
// -ldflags "-X .../internal/version.Value=v1.2.3".
var Value = "dev"
