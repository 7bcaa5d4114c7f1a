// Package visual implements screenshot regression checks
//
// Screenshots are compared against per-name baselines with a YIQ colour
// delta per pixel. Baselines, mismatching screenshots and difference images
// are kept in a gocloud.dev blob bucket under baseline/, actual/ and diffs/
package visual
