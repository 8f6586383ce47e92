package config

// ValidLogLevels are the zap levels the daemon accepts.
var ValidLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// ValidLogFormats are the supported encoder styles.
var ValidLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}
