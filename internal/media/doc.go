// Package media analyzes files on disk: classifying them, probing
// dimensions and durations, locating embedded workflow JSON, and
// generating thumbnails.
package media
