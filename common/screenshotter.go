/*
 *
 * pausesim - playback interruption experiments driven through a browser
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/grafana/pausesim/api"
	"github.com/grafana/pausesim/storage"
)

// Screenshotter captures pages and writes the images through a persister.
type Screenshotter struct {
	persister storage.FilePersister
}

// NewScreenshotter returns a Screenshotter writing through persister.
func NewScreenshotter(persister storage.FilePersister) *Screenshotter {
	return &Screenshotter{persister: persister}
}

// Screenshot captures the visible part of page as a PNG image at path.
func (s *Screenshotter) Screenshot(ctx context.Context, page api.Page, path string) error {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".png" {
		return fmt.Errorf("screenshots are PNG images, got a %q path", ext)
	}

	buf, err := page.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("capturing screenshot: %w", err)
	}
	if err := s.persister.Persist(ctx, path, bytes.NewReader(buf)); err != nil {
		return fmt.Errorf("saving screenshot: %w", err)
	}

	return nil
}
