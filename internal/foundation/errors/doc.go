// Package errors provides classified errors for assetbuild.
//
// A ClassifiedError carries a category (config, race, remote, ...), a severity and a
// context map. Categories decide the CLI exit code and the kind recorded in build
// events; the context carries the location and command titles involved.
//
//	err := errors.RaceError("conflicting outputs").
//		WithContext("location", loc.String()).
//		WithContext("command", title).
//		Build()
package errors
