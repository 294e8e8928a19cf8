// Package launcher defines the interface every browser server launcher
// implements, the handle a launch returns, and the registry that maps engines
// to launchers.
package launcher
