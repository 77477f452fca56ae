// Package api define interfaces and constants shared by kzalloc
// packages. Package shall not import packages other than golang's
// standard packages.
package api
