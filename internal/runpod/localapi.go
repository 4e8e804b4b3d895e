package runpod

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// NewLocalAPI exposes the handler over HTTP for development without the
// platform: POST /runsync runs a job synchronously and returns its output.
func NewLocalAPI(handler Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	runSync := func(c echo.Context) error {
		var job Job
		if err := c.Bind(&job); err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid job payload"})
		}
		if job.ID == "" {
			job.ID = "local-" + uuid.New().String()
		}

		output := handler(c.Request().Context(), &job)
		return c.JSON(http.StatusOK, map[string]any{
			"id":     job.ID,
			"status": "COMPLETED",
			"output": output,
		})
	}

	e.POST("/runsync", runSync)
	// /run is accepted for payload compatibility but served synchronously;
	// there is no job store to poll against locally
	e.POST("/run", runSync)

	return e
}
