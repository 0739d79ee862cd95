package main

import (
	"flag"

	"github.com/danmuck/mavbus/internal/config"
	"github.com/danmuck/mavbus/internal/observability"
)

const defaultPath = "cmd/mavctl/config.toml"

func main() {
	logger := observability.InitLogger("configgen")

	kind := flag.String("kind", "link", "profile kind: link|loopback")
	output := flag.String("output", "", "output path for the profile template")
	validate := flag.Bool("validate", false, "strictly validate an existing profile")
	input := flag.String("input", "", "profile path for validation (defaults to "+defaultPath+")")
	force := flag.Bool("force", false, "overwrite an existing profile")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		if _, err := config.Load(path); err != nil {
			logger.Fatal().Err(err).Str("path", path).Msg("profile invalid")
		}
		logger.Info().Str("path", path).Msg("profile validated")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		logger.Fatal().Err(err).Str("kind", *kind).Msg("write template failed")
	}
	logger.Info().Str("kind", *kind).Str("path", target).Msg("profile template written")
}
