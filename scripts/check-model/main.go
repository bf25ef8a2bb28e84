package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"

	"supermarket-sales/internal/features"
	"supermarket-sales/internal/ml"
)

func main() {
	var (
		modelPath  = flag.String("model", "models/sales_model.json", "Model artifact")
		schemaPath = flag.String("schema", "models/feature_columns.json", "Feature column list")
		format     = flag.String("format", ml.FormatXGBoostJSON, "Model format: xgboost-json or linear-json")
		transform  = flag.String("transform", "none", "Target transform: none or log1p")
		policy     = flag.String("policy", "attribution", "Confidence policy: attribution, baseline or none")
	)
	flag.Parse()

	tt, err := ml.ParseTargetTransform(*transform)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}
	cp, err := ml.ParseConfidencePolicy(*policy)
	if err != nil {
		log.Fatalf("❌ %v", err)
	}

	fmt.Println("🧪 Checking sales model artifacts")
	fmt.Println("=================================")
	fmt.Printf("📁 Model:  %s (%s)\n", *modelPath, *format)
	fmt.Printf("📁 Schema: %s\n", *schemaPath)

	fmt.Println("\n🔧 Check 1: Loading artifacts...")
	p, err := ml.Load(ml.Config{
		ModelPath:   *modelPath,
		ModelFormat: *format,
		SchemaPath:  *schemaPath,
		Transform:   tt,
		Policy:      cp,
	}, nil)
	if err != nil {
		log.Fatalf("❌ Failed to load: %v", err)
	}
	md := p.Metadata()
	fmt.Printf("✅ Loaded %d features, version %s, explainable: %v\n", p.Schema().Len(), md.Version, p.Explainable())
	if md.MAE > 0 {
		fmt.Printf("   Training MAE %.2f, R² %.3f over %d rows\n", md.MAE, md.R2, md.TrainingRows)
	}

	ctx := context.Background()
	schema := p.Schema()
	bounds := features.DefaultBounds()

	fmt.Println("\n🔧 Check 2: Every known category...")
	failures := 0
	for _, col := range features.CategoricalColumns() {
		for _, v := range schema.Categories(col) {
			raw := sample(schema, bounds)
			raw.SetCategorical(col, v)
			res, err := p.Predict(ctx, raw)
			if err != nil {
				fmt.Printf("    ❌ %s=%s: %v\n", col, v, err)
				failures++
				continue
			}
			checkResult(res, &failures, fmt.Sprintf("%s=%s", col, v))
		}
	}
	if failures == 0 {
		fmt.Println("✅ All categories predict finite values")
	}

	fmt.Println("\n🔧 Check 3: Sweeping numeric bounds...")
	for _, col := range features.NumericColumns() {
		r, _ := bounds.For(col)
		for _, v := range []float64{r.Min, r.Default, r.Max} {
			raw := sample(schema, bounds)
			raw.SetNumeric(col, v)
			res, err := p.Predict(ctx, raw)
			if err != nil {
				fmt.Printf("    ❌ %s=%g: %v\n", col, v, err)
				failures++
				continue
			}
			checkResult(res, &failures, fmt.Sprintf("%s=%g", col, v))
		}
		fmt.Printf("    %s: %g..%g ok\n", col, r.Min, r.Max)
	}

	fmt.Println("\n🔧 Check 4: Edge cases...")
	unknown := sample(schema, bounds)
	unknown.Branch = "Z"
	if res, err := p.Predict(ctx, unknown); err != nil {
		fmt.Printf("    ❌ Unknown branch failed: %v\n", err)
		failures++
	} else {
		fmt.Printf("    ✅ Unknown branch degrades to %v, estimate $%.2f\n", res.UnknownCategories, res.Estimate)
	}
	missing := sample(schema, bounds)
	missing.Rating = math.NaN()
	if res, err := p.Predict(ctx, missing); err != nil {
		fmt.Printf("    ⚠️  Missing rating rejected: %v\n", err)
	} else {
		fmt.Printf("    ✅ Missing rating handled, estimate $%.2f\n", res.Estimate)
	}

	fmt.Println("\n=================================")
	if failures > 0 {
		log.Fatalf("❌ %d checks failed", failures)
	}
	fmt.Println("🎉 All checks passed")
}

// sample builds a mid-range transaction using the first known value of every
// categorical field.
func sample(schema *features.Schema, bounds features.Bounds) features.RawTransaction {
	raw := bounds.Defaults()
	for _, col := range features.CategoricalColumns() {
		if opts := schema.Categories(col); len(opts) > 0 {
			raw.SetCategorical(col, opts[0])
		}
	}
	return raw
}

func checkResult(res *ml.Result, failures *int, label string) {
	if res.Estimate < 0 {
		fmt.Printf("    ⚠️  %s: negative estimate %.2f\n", label, res.Estimate)
	}
	if res.Confidence != nil && (*res.Confidence < 50 || *res.Confidence > 95) {
		fmt.Printf("    ❌ %s: confidence %.2f outside [50, 95]\n", label, *res.Confidence)
		*failures++
	}
	if len(res.Contributions) == 0 {
		return
	}
	sum := res.Bias
	for _, c := range res.Contributions {
		sum += c.Value
	}
	if math.Abs(sum-res.NativeEstimate) > 1e-6*math.Max(1, math.Abs(res.NativeEstimate)) {
		fmt.Printf("    ❌ %s: attributions sum to %.6f, model says %.6f\n", label, sum, res.NativeEstimate)
		*failures++
	}
}
