// Package fileio holds the filesystem primitives every durable component builds on:
// atomic replacement of whole files, validated reads that tolerate writers in
// progress, and content checksums.
//
// Nothing in this package interprets the files it touches; callers decide what a
// missing, truncated or unparseable file means for them.
package fileio
