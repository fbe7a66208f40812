package http

import "github.com/labstack/echo/v4"

// Handler registers a set of routes on the Echo instance. The server
// accepts any number of concerns behind this one interface.
type Handler interface {
	RegisterRoutes(e *echo.Echo)
}
