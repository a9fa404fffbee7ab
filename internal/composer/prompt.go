// Package composer assembles the SQL-generation prompt from a fixed
// instruction prefix/suffix, retrieved few-shot examples, the user's
// question, and the schema context.
package composer

import (
	"fmt"
	"strings"

	"github.com/finsight/finsight/internal/intent"
	"github.com/finsight/finsight/internal/retrieval"
)

// systemPrefix states the query-construction rules shown to the generator
// before the few-shot examples.
const systemPrefix = `You are an AI agent designed to interact with a SQL database to answer questions by querying specific tables and columns based on the provided schema information.

Given an input question, construct a syntactically correct SQL query based on the table and column descriptions. Adhere to the following guidelines:

1. Query Structure:
   - Avoid selecting all columns; only include relevant columns based on the question.
   - If Top 10, 20, N is mentioned for a performance query, fetch Top N for each of MTD (Month to Date), QTD (Quarter to Date) and YTD (Year to Date).
   - If no Top N limit is mentioned, restrict the results to the Top 10 records.
   - Positive values need no '+' sign; only '-' is mandatory to denote negative values.
   - Never emit DML statements (INSERT, UPDATE, DELETE, DROP, TRUNCATE, ALTER, CREATE).

2. Performance Summary Rules:
   - Use MTD, QTD, YTD calculations: each period runs from the first day of the current month/quarter/year up to the reference date.
   - Entity Types: 3 for Market Index, 1 for Assets (Table=EntityType, Column=EntityTypeId, EntityTypeName).
   - Use logarithmic calculations for percentage performance and date-based filtering; FrequencyId is 3.
   - When a question asks for a Performance Summary without a specific period, produce three queries, one each for MTD, QTD and YTD.

3. Response Format:
   - Return only the SQL, with consistent markdown structure for performance output.

Here are some example user inputs and their corresponding SQL queries:`

// systemSuffix states the answer-formatting rules appended after the
// schema context.
const systemSuffix = `Answer Guidelines:
1. Summarize information concisely without excluding retrieved records.
2. Provide context if needed and clarify ambiguity with suggested follow-up queries.
3. Include expert comparative analysis where relevant.
4. If the question is outside the scope of the database tables, respond with "I don't know."`

// Assembler builds generation prompts. It is a pure function of its
// inputs plus the example corpus snapshot handed to Assemble.
type Assembler struct{}

// New creates an Assembler.
func New() *Assembler {
	return &Assembler{}
}

// Assemble concatenates, in fixed order: the system prefix, the retrieved
// few-shot examples (most similar first, preserving retrieval order), the
// current question, the resolved summary type, the schema context, and the
// system suffix.
func (a *Assembler) Assemble(query, schemaContext string, summary intent.Summary, examples []retrieval.Example) string {
	var sb strings.Builder

	sb.WriteString(systemPrefix)
	sb.WriteString("\n\n")

	for _, ex := range examples {
		fmt.Fprintf(&sb, "User input: %s\nSQL query: %s\n\n", ex.Question, strings.TrimSpace(ex.SQL))
	}

	fmt.Fprintf(&sb, "User input: %s\n\n", query)
	fmt.Fprintf(&sb, "Performance Summary Type: %s\n\n", summary)

	if schemaContext != "" {
		fmt.Fprintf(&sb, "Available Table Descriptions:\n%s\n\n", schemaContext)
	}

	sb.WriteString(systemSuffix)

	return sb.String()
}
