package version

// Version is set during build via -ldflags "-X github.com/guiyumin/tubefetch/internal/core/version.Version=X.Y.Z"
var Version = "dev"
