// Package archive bundles validated page content into a zip of markdown
// documents, one per URL, named after each document's title.
package archive
