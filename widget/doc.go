// Package widget resolves interactive HTML widgets into MCP resources.
//
// A widget is an HTML entry document produced by an external build step
// (for example `vite build` writing web/dist/<name>/index.html) plus the
// script and stylesheet files it references. The package turns such a build
// directory into resource contents addressable by a stable identifier:
//
//	ui://widget/<name>.html          canonical identifier, the widget itself
//	ui://widget/<name>/<asset path>  derived identifiers, one per asset
//
// The pipeline is split into small components:
//
//   - Store reads assets below a root directory and classifies them by
//     extension. Paths that escape the root are rejected.
//   - Locator finds a widget's entry document, preferring the build
//     directory and falling back to a development file.
//   - Resolver rewrites the entry document's script and stylesheet
//     references, either inlining the asset content or pointing the
//     reference at the asset's derived identifier.
//   - Registry answers lookups for canonical and derived identifiers and
//     substitutes a placeholder document when a widget has not been built.
//   - ToolHandler validates tool arguments and links tool results to the
//     widget that renders them.
//
// All components are safe for concurrent use. Nothing in the package writes
// to the build directory.
package widget
