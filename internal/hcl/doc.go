// Package hcl provides the concrete HCL implementation of the config.Loader
// interface. It is responsible for parsing experiment files and translating
// the HCL schema into the format-agnostic configuration model.
package hcl
