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

package linkcache

import (
	"context"
	"errors"

	"github.com/jerry-enebeli/linkcache/model"
)

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, *model.LinkView) error {
	return nil
}

// FanoutNotifier delivers to every notifier and joins their errors.
type FanoutNotifier []Notifier

func (f FanoutNotifier) Notify(ctx context.Context, view *model.LinkView) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, view); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CombineNotifiers drops nil entries and returns a no-op notifier when none remain.
func CombineNotifiers(notifiers ...Notifier) Notifier {
	var live FanoutNotifier
	for _, n := range notifiers {
		if n != nil {
			live = append(live, n)
		}
	}
	switch len(live) {
	case 0:
		return noopNotifier{}
	case 1:
		return live[0]
	default:
		return live
	}
}
