// Package mapping orchestrates incremental construction of a volumetric
// surface map from streaming sensor point clouds.
//
// The pipeline admits frames through a per-stream rate gate, sanitizes
// them, resolves their poses, and dispatches them into TSDF integration;
// a two-mode mesh update controller keeps a renderable mesh consistent
// with the continuously mutating voxel map, serving a periodic timer and
// on-demand service requests. The volumetric map and the derived mesh are
// the only long-lived shared state; one map lock serializes integration
// against extraction.
package mapping
