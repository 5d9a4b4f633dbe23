// Package privilege decides, per filesystem target, whether elevated
// privileges are required and obtains them at most once per process.
package privilege
