package main

import (
	"testing"

	"ragd/internal/config"
)

func TestCrawlTargetError(t *testing.T) {
	cfg := &config.Config{}
	if err := crawlTargetError(cfg); err == nil {
		t.Fatalf("missing TARGET_URL must be fatal for the crawler role")
	}

	cfg.Crawler.TargetURL = "::not-a-url::"
	if err := crawlTargetError(cfg); err == nil {
		t.Fatalf("unparseable TARGET_URL must be fatal for the crawler role")
	}

	cfg.Crawler.TargetURL = "/documentation/swiftui"
	if err := crawlTargetError(cfg); err == nil {
		t.Fatalf("relative TARGET_URL must be fatal for the crawler role")
	}

	cfg.Crawler.TargetURL = "https://developer.example.com/documentation"
	if err := crawlTargetError(cfg); err != nil {
		t.Fatalf("valid target rejected: %v", err)
	}
}
