// Package imageio loads protocol images and writes PNG artifacts.
//
// Decoding understands JPEG, PNG, GIF, BMP, TIFF and WebP. JPEG inputs are
// rotated according to their EXIF Orientation tag so the model, the saliency
// renderer and the compositor all see the picture the way a viewer would.
// Writes go through fileutil.WriteAtomic.
package imageio
