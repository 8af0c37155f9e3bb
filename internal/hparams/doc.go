// Package hparams models a training hyperparameter file: a flat YAML mapping
// from option name to scalar value. It parses and canonically re-encodes such
// documents, checks them against a registry of known options, compares and
// diffs them, and applies key=value overrides.
package hparams
