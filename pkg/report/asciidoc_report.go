// pkg/report/asciidoc_report.go

package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
)

// Status represents the result status of a check
type Status string

const (
	// StatusOK means the source shows no block
	StatusOK Status = "OK"

	// StatusWarning means a block was found and has been remediated
	StatusWarning Status = "Warning"

	// StatusCritical means a block is still in place or the check failed
	StatusCritical Status = "Critical"

	// StatusInfo indicates informational output
	StatusInfo Status = "Info"

	// StatusNotApplicable means the source is not checked on this panel
	StatusNotApplicable Status = "Not Applicable"
)

// ResultKey represents the level of importance for a result in a report summary
type ResultKey string

const (
	// ResultKeyNoChange indicates no changes are needed
	ResultKeyNoChange ResultKey = "nochange"

	// ResultKeyRecommended indicates changes are recommended
	ResultKeyRecommended ResultKey = "recommended"

	// ResultKeyRequired indicates changes are required
	ResultKeyRequired ResultKey = "required"

	// ResultKeyAdvisory indicates additional information
	ResultKeyAdvisory ResultKey = "advisory"

	// ResultKeyNotApplicable indicates the check does not apply
	ResultKeyNotApplicable ResultKey = "na"

	// ResultKeyEvaluate indicates the result needs evaluation
	ResultKeyEvaluate ResultKey = "eval"
)

// Category groups checks by the security layer they inspect
type Category string

const (
	CategoryConnection  Category = "Connection"
	CategoryCSF         Category = "CSF Firewall"
	CategoryBFM         Category = "DirectAdmin Brute Force Monitor"
	CategoryMail        Category = "Mail Authentication"
	CategoryWebFirewall Category = "ModSecurity"
	CategoryRemediation Category = "Remediation"
)

// Result represents the result of a check
type Result struct {
	// Status indicates the result status (OK, Warning, Critical, etc.)
	Status Status

	// Message is a brief description of the result
	Message string

	// ResultKey indicates the importance of the result
	ResultKey ResultKey

	// Detail is the raw command output backing the result
	Detail string

	// Recommendations are suggestions to address any issues
	Recommendations []string

	// ReferenceLinks contains documentation references
	ReferenceLinks []string
}

// Check is one evaluated item in a firewall report
type Check struct {
	ID          string
	Name        string
	Description string
	Category    Category
	Result      Result
}

// AsciiDocReport renders the checks of one firewall check as AsciiDoc
type AsciiDocReport struct {
	// OutputPath is where the report will be saved
	OutputPath string

	// Hostname is the server that was checked
	Hostname string

	// Title is the title of the report
	Title string

	// Attributes are printed as a header table (IP, panel, operator, ...)
	Attributes [][2]string

	Checks []*Check
}

// NewAsciiDocReport creates a new AsciiDoc report
func NewAsciiDocReport(outputPath string) *AsciiDocReport {
	return &AsciiDocReport{
		OutputPath: outputPath,
		Checks:     []*Check{},
	}
}

// Initialize sets up the report with hostname and title
func (r *AsciiDocReport) Initialize(hostname, title string) {
	r.Hostname = hostname
	r.Title = title
}

// AddAttribute appends a header row
func (r *AsciiDocReport) AddAttribute(name, value string) {
	r.Attributes = append(r.Attributes, [2]string{name, value})
}

// AddCheck adds a check to the report
func (r *AsciiDocReport) AddCheck(check *Check) {
	r.Checks = append(r.Checks, check)
}

// Generate writes the report to OutputPath
func (r *AsciiDocReport) Generate() (string, error) {
	if err := os.MkdirAll(filepath.Dir(r.OutputPath), 0755); err != nil {
		return "", errors.Wrap(err, "failed to create output directory")
	}

	if err := os.WriteFile(r.OutputPath, []byte(r.Content()), 0644); err != nil {
		return "", errors.Wrap(err, "failed to write report")
	}

	return r.OutputPath, nil
}

// Content renders the full report
func (r *AsciiDocReport) Content() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("= %s\n\n", r.Title))
	sb.WriteString("ifdef::env-github[]\n:tip-caption: :bulb:\n:note-caption: :information_source:\n:important-caption: :heavy_exclamation_mark:\n:caution-caption: :fire:\n:warning-caption: :warning:\nendif::[]\n\n")

	sb.WriteString(r.generateAttributesSection())
	sb.WriteString(r.generateKeySection())
	sb.WriteString(r.generateSummarySection())

	categorized := r.organizeChecksByCategory()
	for _, category := range sortedCategories() {
		checks := categorized[category]
		if len(checks) == 0 {
			continue
		}
		sb.WriteString(r.generateCategorySection(category, checks))
	}

	// Reset bgcolor for future tables
	sb.WriteString("// Reset bgcolor for future tables\n[grid=none,frame=none]\n|===\n|{set:cellbgcolor!}\n|===\n\n")

	return sb.String()
}

func (r *AsciiDocReport) generateAttributesSection() string {
	if len(r.Attributes) == 0 && r.Hostname == "" {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("[cols=\"1,3\"]\n|===\n")
	if r.Hostname != "" {
		sb.WriteString(fmt.Sprintf("|Hostname\n|%s\n\n", r.Hostname))
	}
	for _, attr := range r.Attributes {
		sb.WriteString(fmt.Sprintf("|%s\n|%s\n\n", attr[0], escapeCell(attr[1])))
	}
	sb.WriteString("|===\n\n")
	return sb.String()
}

// generateKeySection creates the color-coded key section
func (r *AsciiDocReport) generateKeySection() string {
	var sb strings.Builder

	sb.WriteString("= Key\n\n")
	sb.WriteString("[cols=\"1,3\", options=header]\n|===\n|Value\n|Description\n\n")

	sb.WriteString("|\n{set:cellbgcolor:#FF0000}\nChanges Required\n|\n{set:cellbgcolor!}\n")
	sb.WriteString("The IP is still blocked by this layer, or the check itself failed.\n\n")

	sb.WriteString("|\n{set:cellbgcolor:#FEFE20}\nChanges Recommended\n|\n{set:cellbgcolor!}\n")
	sb.WriteString("Remediation ran but could not be verified.\n\n")

	sb.WriteString("|\n{set:cellbgcolor:#A6B9BF}\nN/A\n|\n{set:cellbgcolor!}\n")
	sb.WriteString("Layer not checked on this control panel.\n\n")

	sb.WriteString("|\n{set:cellbgcolor:#80E5FF}\nAdvisory\n|\n{set:cellbgcolor!}\n")
	sb.WriteString("A block was found and removed, or additional information is provided.\n\n")

	sb.WriteString("|\n{set:cellbgcolor:#00FF00}\nNo Change\n|\n{set:cellbgcolor!}\n")
	sb.WriteString("No block found on this layer.\n\n")

	sb.WriteString("|\n{set:cellbgcolor:#FFFFFF}\nTo Be Evaluated\n|\n{set:cellbgcolor!}\n")
	sb.WriteString("Not yet evaluated.\n|===\n\n")

	return sb.String()
}

// generateSummarySection lists every check with its verdict
func (r *AsciiDocReport) generateSummarySection() string {
	var sb strings.Builder

	sb.WriteString("= Summary\n\n")
	sb.WriteString(tableHeader())

	categorized := r.organizeChecksByCategory()
	for _, category := range sortedCategories() {
		for _, check := range categorized[category] {
			sb.WriteString(formatCheckRow(check))
			sb.WriteString("\n")
		}
	}

	sb.WriteString("|===\n\n")
	sb.WriteString("<<<\n\n")
	sb.WriteString("{set:cellbgcolor!}\n\n")

	return sb.String()
}

// generateCategorySection creates a section for a specific category
func (r *AsciiDocReport) generateCategorySection(category Category, checks []*Check) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", category))
	sb.WriteString(tableHeader())
	for _, check := range checks {
		sb.WriteString(formatCheckRow(check))
	}
	sb.WriteString("|===\n\n")

	for _, check := range checks {
		sb.WriteString(r.formatCheckDetail(check))
	}

	sb.WriteString("<<<\n\n")
	sb.WriteString("{set:cellbgcolor!}\n\n")

	return sb.String()
}

func tableHeader() string {
	return "[cols=\"1,2,2,3\", options=header]\n|===\n|*Category*\n|*Item Evaluated*\n|*Observed Result*\n|*Recommendation*\n\n"
}

func formatCheckRow(check *Check) string {
	var sb strings.Builder
	sb.WriteString("// ------------------------ITEM START\n")
	sb.WriteString("// Category\n")
	sb.WriteString("|\n{set:cellbgcolor!}\n" + string(check.Category) + "\n\n")
	sb.WriteString("// Item Evaluated\n")
	sb.WriteString("a|\n<<" + check.Name + ">>\n\n")
	sb.WriteString("| " + escapeCell(check.Result.Message) + " \n\n")
	sb.WriteString(getResultFormatting(check.Result.ResultKey) + "\n\n")
	sb.WriteString("// ------------------------ITEM END\n")
	return sb.String()
}

// formatCheckDetail formats detailed information about a check
func (r *AsciiDocReport) formatCheckDetail(check *Check) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("== %s\n\n", check.Name))
	sb.WriteString(getStatusTable(check.Result.ResultKey) + "\n\n")

	if check.Result.Detail != "" {
		sb.WriteString(formatAsCodeBlock(check.Result.Detail, ""))
	}

	sb.WriteString("**Observation**\n\n")
	sb.WriteString(check.Result.Message + "\n\n")

	sb.WriteString("**Recommendation**\n\n")
	if len(check.Result.Recommendations) > 0 {
		for _, rec := range check.Result.Recommendations {
			sb.WriteString(rec + "\n\n")
		}
	} else {
		sb.WriteString("None\n\n")
	}

	if len(check.Result.ReferenceLinks) > 0 {
		sb.WriteString("*Reference Link(s)*\n\n")
		for _, link := range check.Result.ReferenceLinks {
			sb.WriteString("* " + link + "\n\n")
		}
	}

	return sb.String()
}

// organizeChecksByCategory groups checks by their category
func (r *AsciiDocReport) organizeChecksByCategory() map[Category][]*Check {
	categorized := make(map[Category][]*Check)
	for _, check := range r.Checks {
		categorized[check.Category] = append(categorized[check.Category], check)
	}
	return categorized
}

// sortedCategories returns categories in report order
func sortedCategories() []Category {
	return []Category{
		CategoryConnection,
		CategoryCSF,
		CategoryBFM,
		CategoryMail,
		CategoryWebFirewall,
		CategoryRemediation,
	}
}

// getResultFormatting returns formatted AsciiDoc for a result key (used in tables)
func getResultFormatting(resultKey ResultKey) string {
	label, color := resultLabel(resultKey)
	return fmt.Sprintf("| \n{set:cellbgcolor:%s}\n%s", color, label)
}

// getStatusTable returns a colored status table for a result key (used in detailed sections)
func getStatusTable(resultKey ResultKey) string {
	label, color := resultLabel(resultKey)
	return fmt.Sprintf("[cols=\"^\"] \n|===\n|\n{set:cellbgcolor:%s}\n%s\n|===", color, label)
}

func resultLabel(resultKey ResultKey) (string, string) {
	switch resultKey {
	case ResultKeyRequired:
		return "Changes Required", "#FF0000"
	case ResultKeyRecommended:
		return "Changes Recommended", "#FEFE20"
	case ResultKeyNoChange:
		return "No Change", "#00FF00"
	case ResultKeyAdvisory:
		return "Advisory", "#80E5FF"
	case ResultKeyNotApplicable:
		return "Not Applicable", "#A6B9BF"
	}
	return "To Be Evaluated", "#FFFFFF"
}

// formatAsCodeBlock wraps command output in a listing block. JSON is highlighted as such.
func formatAsCodeBlock(content string, language string) string {
	if language == "" {
		trimmed := strings.TrimSpace(content)
		switch {
		case strings.HasPrefix(trimmed, "{") && strings.Contains(content, "\":"):
			language = "json"
		case strings.HasPrefix(trimmed, "csf ") || strings.HasPrefix(trimmed, "grep ") || strings.HasPrefix(trimmed, "$ "):
			language = "bash"
		default:
			language = "text"
		}
	}

	content = strings.TrimRight(content, " \t")
	content = strings.TrimRight(content, "\n") + "\n"
	// A line of dashes would close the listing block early
	content = strings.ReplaceAll(content, "\n----\n", "\n- - -\n")

	return fmt.Sprintf("[source, %s]\n----\n%s----\n\n", language, content)
}

// escapeCell keeps table cell content from opening new cells
func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", "\\|")
}

// NewCheck creates a new Check
func NewCheck(id, name, description string, category Category) *Check {
	return &Check{
		ID:          id,
		Name:        name,
		Description: description,
		Category:    category,
	}
}

// NewResult creates a new Result
func NewResult(status Status, message string, resultKey ResultKey) Result {
	return Result{
		Status:          status,
		Message:         message,
		ResultKey:       resultKey,
		Recommendations: []string{},
		ReferenceLinks:  []string{},
	}
}

// AddReferenceLink adds a reference link to a Result
func AddReferenceLink(result *Result, link string) {
	result.ReferenceLinks = append(result.ReferenceLinks, link)
}

// AddRecommendation adds a recommendation to a Result
func AddRecommendation(result *Result, recommendation string) {
	result.Recommendations = append(result.Recommendations, recommendation)
}

// SetDetail sets the detail for a Result
func SetDetail(result *Result, detail string) {
	detail = strings.ReplaceAll(detail, "\r\n", "\n")
	if !strings.HasSuffix(detail, "\n") {
		detail += "\n"
	}
	result.Detail = detail
}
