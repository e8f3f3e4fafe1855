// cmd/tools/catalogue-check/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/InternetOfUs/app-survey/internal/common/clock"
	"github.com/InternetOfUs/app-survey/internal/models"
	"github.com/InternetOfUs/app-survey/internal/rules"
	"github.com/InternetOfUs/app-survey/pkg/catalogue"
)

func main() {
	if len(os.Args) < 2 {
		help(os.Stdout)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		path := fs.String("path", "configs/rules.json", "Path to the rule catalogue")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return validate(*path, out)

	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		path := fs.String("path", "configs/rules.json", "Path to the rule catalogue")
		if err := fs.Parse(args); err != nil {
			return err
		}
		return list(*path, out)

	case "apply":
		fs := flag.NewFlagSet("apply", flag.ContinueOnError)
		path := fs.String("path", "configs/rules.json", "Path to the rule catalogue")
		answerPath := fs.String("answer", "", "Survey answer document (wire form)")
		profilePath := fs.String("profile", "", "Profile document to apply the answer to")
		today := fs.String("today", "", "Date used as now by date rules (YYYY-MM-DD)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if *answerPath == "" || *profilePath == "" {
			fs.Usage()
			return fmt.Errorf("answer and profile are required for apply")
		}
		clk := clock.Real()
		if *today != "" {
			d, err := time.Parse(models.DateLayout, *today)
			if err != nil {
				return fmt.Errorf("invalid today value: %w", err)
			}
			clk = clock.NewFake(d)
		}
		return apply(*path, *answerPath, *profilePath, clk, out)

	case "help":
		help(out)
		return nil
	}
	help(out)
	return fmt.Errorf("unknown command %q", command)
}

// validate checks the document against the catalogue schema and compiles every rule.
func validate(path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read catalogue: %w", err)
	}
	problems, err := catalogue.Validate(data)
	if err != nil {
		return err
	}
	if len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return fmt.Errorf("catalogue %s has %d schema problems", path, len(problems))
	}

	cat, err := catalogue.Parse(data)
	if err != nil {
		return err
	}
	compiled, err := rules.Compile(cat, clock.Real(), nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Catalogue validation passed. Found %d rules for survey %q (version %s).\n",
		len(compiled), cat.Survey, cat.Version)
	return nil
}

func list(path string, out io.Writer) error {
	cat, err := catalogue.LoadCatalogue(path)
	if err != nil {
		return err
	}

	byType := map[string]int{}
	questions := map[string]bool{}
	for i, def := range cat.Rules {
		byType[def.Type]++
		target := def.Attribute
		if target == "" {
			target = def.List + "/" + def.Name
		}
		question := def.Question
		for _, item := range def.Items {
			question += " " + item.Question
			questions[item.Question] = true
		}
		if def.Question != "" {
			questions[def.Question] = true
		}
		fmt.Fprintf(out, "%3d  %-22s %-20s -> %s\n", i, def.Type, question, target)
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	fmt.Fprintf(out, "\n%d rules over %d questions\n", len(cat.Rules), len(questions))
	for _, t := range types {
		fmt.Fprintf(out, "  %-22s %d\n", t, byType[t])
	}
	return nil
}

// apply runs the catalogue against a local profile document, without calling the profile
// service, and prints the per-rule report and the resulting profile.
func apply(path, answerPath, profilePath string, clk clock.Clock, out io.Writer) error {
	manager, err := rules.LoadManager(path, clk, nil)
	if err != nil {
		return err
	}

	rawAnswer, err := os.ReadFile(answerPath)
	if err != nil {
		return fmt.Errorf("failed to read answer: %w", err)
	}
	answer, err := models.DecodeSurveyAnswer(rawAnswer)
	if err != nil {
		return err
	}

	rawProfile, err := os.ReadFile(profilePath)
	if err != nil {
		return fmt.Errorf("failed to read profile: %w", err)
	}
	var profile models.Profile
	if err := json.Unmarshal(rawProfile, &profile); err != nil {
		return fmt.Errorf("failed to decode profile: %w", err)
	}
	if profile.ID == "" {
		profile.ID = answer.SubjectID
	}

	updated, report := manager.Apply(&profile, answer)
	for _, o := range report.Outcomes {
		status := string(o.Diagnostic)
		if o.Fault != nil {
			status = "FAULT: " + o.Fault.Error()
		}
		fmt.Fprintf(out, "%3d  %-22s %s\n", o.Index, o.Kind, status)
	}
	fmt.Fprintf(out, "\n%d applied, %d faults\n\n", report.Applied(), len(report.Faults()))

	sections := []struct {
		title string
		value interface{}
	}{
		{"profile", updated},
		{"competences", updated.Competences},
		{"meanings", updated.Meanings},
		{"materials", updated.Materials},
	}
	for _, sec := range sections {
		doc, err := json.MarshalIndent(sec.value, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", sec.title, err)
		}
		fmt.Fprintf(out, "# %s\n%s\n", sec.title, doc)
	}
	return nil
}

func help(out io.Writer) {
	fmt.Fprintln(out, `
Usage: catalogue-check <command> [flags]

Commands:
  validate  Check a rule catalogue against its schema and compile every rule
  list      Print the rules of a catalogue and a count per rule type
  apply     Apply a survey answer to a local profile document and print the result
  help      Show this help message

Examples:
  catalogue-check validate -path configs/rules.json
  catalogue-check list
  catalogue-check apply -answer answer.json -profile profile.json -today 2024-05-02

Use 'catalogue-check <command> -h' for more information about a command.`)
}
