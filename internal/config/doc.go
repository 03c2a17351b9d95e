// Package config defines bundling settings used by the refbundler commands and
// provides helpers to load, validate and save them in YAML format.
//
// The Config type holds the in-archive references folder name, the backup
// suffix, the manifest extension and the build-output directories excluded
// from staging.
package config
