// Package version carries the build version, set with
// -ldflags "-X github.com/fabian4/peaudiosys-gateway/internal/version.Value=v1.2.3".
package version

var Value = "dev"
