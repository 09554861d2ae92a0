// Copyright 2026 The go-micronir Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	micronir "github.com/nirlab/go-micronir"
	"github.com/nirlab/go-micronir/calibration"
)

// previewPoints is how many spectrum points a scan summary shows.
const previewPoints = 8

type styles struct {
	title lipgloss.Style
	label lipgloss.Style
	value lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	muted lipgloss.Style
	box   lipgloss.Style

	prompt lipgloss.Style
}

// newStyles returns colour styles for terminals and plain ones otherwise.
func newStyles(color bool) styles {
	if !color {
		plain := lipgloss.NewStyle()
		return styles{
			title: plain, label: plain, value: plain, err: plain,
			warn: plain, muted: plain, box: plain, prompt: plain,
		}
	}
	return styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1),
		label: lipgloss.NewStyle().
			Foreground(lipgloss.Color("12")).
			Bold(true),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		err: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Bold(true),
		warn: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")),
		muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		prompt: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true),
	}
}

func (s styles) field(label, value string) string {
	return s.label.Render(label+":") + " " + s.value.Render(value)
}

func (s styles) renderTemperature(celsius float64) string {
	return s.field("Temperature", fmt.Sprintf("%.1f °C", celsius))
}

func (s styles) renderLamp(on bool) string {
	state := "off"
	if on {
		state = "on"
	}
	return s.field("Lamp", state)
}

func (s styles) renderCalibration(set *calibration.Set, path string) string {
	status := set.Status()
	value := status.String()
	rendered := s.value.Render(value)
	if !set.Ready() {
		rendered = s.warn.Render(value)
	}
	return s.label.Render("Calibration:") + " " + rendered + " " + s.muted.Render("("+path+")")
}

// renderCounts summarises a raw scan when no calibration is available.
func (s styles) renderCounts(pixels []uint16) string {
	if len(pixels) == 0 {
		return s.warn.Render("empty scan")
	}
	lo, hi := pixels[0], pixels[0]
	var sum float64
	for _, p := range pixels {
		lo = min(lo, p)
		hi = max(hi, p)
		sum += float64(p)
	}
	return strings.Join([]string{
		s.field("Pixels", fmt.Sprintf("%d", len(pixels))),
		s.field("Counts", fmt.Sprintf("min %d  max %d  mean %.0f", lo, hi, sum/float64(len(pixels)))),
	}, "\n")
}

func (s styles) renderPrediction(p calibration.Prediction, model string) string {
	value := s.value.Render(p.String())
	if !p.Valid {
		value = s.err.Render(p.String() + " (invalid: check lamp and calibration)")
	}
	return s.label.Render("Prediction:") + " " + value + " " + s.muted.Render(model)
}

func (s styles) renderResult(r calibration.Result, model string, lamp calibration.LampStatus) string {
	var b strings.Builder
	b.WriteString(s.title.Render("MICRONIR MEASUREMENT"))
	b.WriteString("\n\n")

	var body strings.Builder
	body.WriteString(s.renderPrediction(r.Prediction, model))
	body.WriteString("\n")
	body.WriteString(s.field("Lamp", string(lamp)))
	body.WriteString("\n")
	body.WriteString(s.field("Points", fmt.Sprintf("%d", len(r.Spectrum))))
	for _, p := range r.Spectrum.Head(previewPoints) {
		body.WriteString("\n  ")
		body.WriteString(s.muted.Render(p.String()))
	}
	b.WriteString(s.box.Render(body.String()))
	return b.String()
}

func (s styles) renderStatus(st micronir.Status) string {
	lines := []string{
		s.field("Transport", fmt.Sprintf("%s %s", st.Transport, st.Port)),
		s.field("Link", fmt.Sprintf("%d requests, %d timeouts, %d NAKs, %d false starts",
			st.Session.Requests, st.Session.Timeouts, st.Session.NAKs, st.Session.FalseStarts)),
	}
	return s.muted.Render(strings.Join(lines, "\n"))
}
