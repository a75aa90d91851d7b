package pyramid

import "time"

// ReaderConfig tunes a Reader. Zero fields take the default tag value.
type ReaderConfig struct {
	// MaxTiles is the tile budget of one read.
	MaxTiles int `default:"100" validate:"gte=1" mapstructure:"max-tiles"`
	// Tolerance lets the finder keep a level up to this fraction coarser
	// than the wanted resolution.
	Tolerance float64 `default:"0.1" validate:"gte=0,lt=1" mapstructure:"tolerance"`
	// Workers decoding tiles; 0 means one per CPU.
	Workers int `validate:"gte=0" mapstructure:"workers"`
	// BufferSize bounds decoded tiles waiting to be composited.
	BufferSize int `default:"16" validate:"gte=1" mapstructure:"buffer-size"`
	// PollInterval is how long the compositor waits for a tile before it
	// checks for cancellation again.
	PollInterval time.Duration `default:"50ms" validate:"gt=0" mapstructure:"poll-interval"`
	// Interpolation used when a read reprojects.
	Interpolation Interpolation `default:"nearest" validate:"oneof=nearest bilinear bicubic" mapstructure:"interpolation"`
}

// WriterConfig tunes a Writer.
type WriterConfig struct {
	// TileWidth and TileHeight of newly created mosaics.
	TileWidth  int `default:"256" validate:"gte=1" mapstructure:"tile-width"`
	TileHeight int `default:"256" validate:"gte=1" mapstructure:"tile-height"`
	// Workers resampling tiles; 0 means one per CPU.
	Workers int `validate:"gte=0" mapstructure:"workers"`
	// Interpolation used when a request does not name one.
	Interpolation Interpolation `default:"nearest" validate:"oneof=nearest bilinear bicubic" mapstructure:"interpolation"`
}

// CacheConfig tunes a TileCache.
type CacheConfig struct {
	MaxTiles     int64         `default:"512" validate:"gte=1" mapstructure:"max-tiles"`
	ItemsToPrune uint32        `default:"32" validate:"gte=1" mapstructure:"items-to-prune"`
	TTL          time.Duration `default:"10m" validate:"gt=0" mapstructure:"ttl"`
}
