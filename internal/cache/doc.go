// Package cache provides a small generic LRU cache.
//
//	textures := cache.New[string, gpu.Texture](0)
//	textures.OnEvict(func(_ string, t gpu.Texture) { t.Release() })
//	tex, err := textures.GetOrLoad(path, func() (gpu.Texture, error) { ... })
//
// The render engine keeps file-backed channel textures in an unbounded cache
// keyed by absolute path and releases them through the eviction callback on
// Clear. The audio analyzer keeps recently computed per-frame textures in a
// bounded one.
package cache
