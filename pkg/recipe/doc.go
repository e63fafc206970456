// Package recipe implements the Recipe/AWM model (C3): loading a recipe
// document into types.Recipe, validating the AWM value range and
// constraint grammar nailed down in SPEC_FULL.md §4.3, and binding a
// template AWM to a concrete resource view at schedule time.
package recipe
