package api

import (
	_ "embed"
	"net/http"

	"github.com/gin-gonic/gin"
)

//go:embed openapi.yaml
var openAPISpec []byte

// registerOpenAPIRoutes 提供 /openapi 与 /docs/ui
func registerOpenAPIRoutes(engine *gin.Engine) {
	engine.GET("/openapi", serveOpenAPI)
	engine.GET("/openapi.yaml", serveOpenAPI)
	engine.GET("/docs/ui", serveSwaggerUI)
}

func serveOpenAPI(c *gin.Context) {
	c.Data(http.StatusOK, "application/yaml; charset=utf-8", openAPISpec)
}

// serveSwaggerUI 基于CDN的 swagger-ui 页面，不依赖 -tags swagger
func serveSwaggerUI(c *gin.Context) {
	const html = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>Carbon Cards API</title>
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/openapi',
        dom_id: '#swagger-ui',
        deepLinking: true,
        presets: [SwaggerUIBundle.presets.apis],
        layout: 'BaseLayout'
      })
    </script>
  </body>
</html>`
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(html))
}
