// Package archive unpacks downloaded release artifacts and locates the
// executable payload inside them.
package archive
