package main

// General API documentation for swaggo. Run `swag init -g cmd/imaged/docs.go -d ./,./internal/httpapi,./pkg/types` to regenerate ./docs.
//
// @title           imaged API
// @version         1.0
// @description     HTTP API for text-to-image generation with a resource-aware pipeline cache.
//
// @contact.name   imaged maintainers
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
