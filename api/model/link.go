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

package model

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/jerry-enebeli/linkcache/config"
)

const maxTrackedUrls = 100

type GetLinkQuery struct {
	URL string `form:"url"`
}

type TrackLinks struct {
	Urls         []string `json:"urls"`
	RefreshStale bool     `json:"refresh_stale"`
}

func notBlank(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}

func (q *GetLinkQuery) ValidateGetLinkQuery() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.URL, validation.Required, validation.By(notBlank), validation.RuneLength(1, config.DEFAULT_MAX_URL_LENGTH)),
	)
}

func (t *TrackLinks) ValidateTrackLinks() error {
	return validation.ValidateStruct(t,
		validation.Field(&t.Urls,
			validation.Required,
			validation.Length(1, maxTrackedUrls),
			validation.Each(validation.Required, validation.RuneLength(1, config.DEFAULT_MAX_URL_LENGTH)),
		),
	)
}
