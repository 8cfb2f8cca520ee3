// Package config loads, normalizes, and validates speakerscribe configuration.
//
// Configuration lives in TOML (~/.config/speakerscribe/config.toml or
// ./speakerscribe.toml). Load starts from Default, decodes the file when it
// exists, expands paths, applies environment fallbacks such as HF_TOKEN, and
// finally validates the enumerated option sets shared with the CLI flags.
package config
