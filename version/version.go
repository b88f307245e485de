package version

// Version is the Major.Minor.Patch tag from git, set at link time with
// -ldflags "-X github.com/jake-scott/iotctl/version.Version=..."
var Version string = "dev"
