/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jerry-enebeli/linkcache"
	"github.com/jerry-enebeli/linkcache/api/middleware"
	"github.com/jerry-enebeli/linkcache/config"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type Api struct {
	linkCache *linkcache.LinkCache
	router    *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/links", a.GetLink)
	router.GET("/links/queued", a.GetQueuedRefresh)
	router.POST("/links/tracking", a.TrackLinks)
	return a.router
}

func NewAPI(l *linkcache.LinkCache) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(otelgin.Middleware(serviceName(conf)))
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{linkCache: l, router: r}
}

func serviceName(conf *config.Configuration) string {
	if conf.ProjectName != "" {
		return conf.ProjectName
	}
	return "linkcache"
}
