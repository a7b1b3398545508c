// Package mediatypes classifies files into the media classes the gallery
// indexes (image, animated_image, video, audio) based on configurable
// extension sets.
package mediatypes
