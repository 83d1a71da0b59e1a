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
	"github.com/jerry-enebeli/linkcache/api/model"
	"github.com/jerry-enebeli/linkcache/internal/apierror"
)

// GetLink returns the cached view of the url query parameter. A link that
// has not resolved yet is answered with 202 so clients know to poll.
func (a Api) GetLink(c *gin.Context) {
	var query model.GetLinkQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := query.ValidateGetLinkQuery(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view, err := a.linkCache.GetLinkData(c.Request.Context(), query.URL)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	if view == nil {
		c.JSON(http.StatusAccepted, gin.H{"status": "pending"})
		return
	}
	if view.LastSuccessfullyUpdated == nil && view.LastErrorMessage == nil {
		c.JSON(http.StatusAccepted, view)
		return
	}
	c.JSON(http.StatusOK, view)
}

// TrackLinks registers a batch of urls and schedules the resolutions they need.
func (a Api) TrackLinks(c *gin.Context) {
	var req model.TrackLinks
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.ValidateTrackLinks(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	track := a.linkCache.EnsureTrackingForUrls
	if req.RefreshStale {
		track = a.linkCache.RefreshStaleTrackingForUrls
	}
	if err := track(c.Request.Context(), req.Urls); err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted", "urls": len(req.Urls)})
}

// GetQueuedRefresh reports whether a refresh for the url is waiting in the queue.
func (a Api) GetQueuedRefresh(c *gin.Context) {
	var query model.GetLinkQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := query.ValidateGetLinkQuery(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	link, err := a.linkCache.Canonicalizer().Canonicalize(query.URL)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	queue := a.linkCache.Queue()
	if queue == nil {
		c.JSON(http.StatusOK, gin.H{"canonical_id": link.CanonicalID, "queued": false})
		return
	}
	payload, err := queue.QueuedRefresh(link.CanonicalID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"canonical_id": link.CanonicalID, "queued": payload != nil})
}
