// Package render executes multipass shader jobs frame by frame.
//
// An Engine owns every GPU resource of a job in a resource table keyed by
// pass name: the compiled program, the render target, and for feedback
// passes a second target. Close releases all of them.
//
// # Frame loop
//
// For each output frame the engine renders one view per eye. A view is
// rendered in one of two modes:
//
//   - Standard: one accumulation buffer at the internal (supersampled)
//     resolution. For each temporal sample the dependency passes are drawn
//     once and the terminal pass is drawn and read back.
//   - Streaming: used when the job is tiled or the accumulation buffer
//     would be too large. Tiles are rendered one at a time with a
//     tile-sized accumulator, and every dependency pass is re-rendered for
//     each tile and sample. Averaged tiles are spilled to a private
//     temporary directory and stitched in memory, or through a stitched
//     file read back row by row when memory is tight.
//
// Both modes produce bit-identical images. The averaged view is then
// area-resampled to the output size and converted to the writer's bit
// depth. Stereo views are joined side by side or top to bottom.
//
// # Feedback
//
// A pass that reads its own output owns two targets. During a frame it
// draws into one and samples the other, which holds the previous frame's
// result. The roles swap once at the end of every frame.
//
// # Coordinates
//
// Device images are bottom-up; output images are top-down. A tile drawn at
// offset (ox, oy) from the bottom-left corner lands on output rows
// [H-(oy+th), H-oy), clipped to the image.
package render
