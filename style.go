package main

import "github.com/charmbracelet/lipgloss"

var (
	keyword   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render
	paragraph = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2).Render

	faint    = lipgloss.NewStyle().Faint(true).Render
	okMark   = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575")).Render("✓")
	failMark = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Render("✗")
	heading  = lipgloss.NewStyle().Bold(true).MarginTop(1).Render
	prompt   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7D56F4")).Bold(true).Render
	warning  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB454")).Render
)
