package config

// Version is the chat server binary version.
// Set at build time via: -ldflags "-X github.com/relaychat/chatserver/internal/config.Version=<tag>"
// Defaults to "dev" when built without ldflags.
var Version = "dev"
