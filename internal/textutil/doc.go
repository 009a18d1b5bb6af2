// Package textutil normalizes protocol text into filesystem path fragments.
//
// The primary use cases are:
//   - Deriving the grouping key for a question (NormalizeQuestion)
//   - Deriving the image stem used by the image and removal-cache layouts
//   - Sanitizing names that become directory components
package textutil
