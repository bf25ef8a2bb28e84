package dashboard

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>Supermarket Sales - Analytics Dashboard</title>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: 'Segoe UI', Tahoma, Geneva, Verdana, sans-serif; margin: 0; padding: 20px; background-color: #f5f5f5; }
        .container { max-width: 1400px; margin: 0 auto; }
        .header { background: linear-gradient(135deg, #2f9e44 0%, #1c7ed6 100%); color: white; padding: 20px; border-radius: 10px; margin-bottom: 20px; }
        .header h1 { margin: 0; font-size: 2.2em; text-align: center; }
        .status-bar { display: flex; justify-content: space-between; align-items: center; background: white; padding: 15px; border-radius: 8px; margin-bottom: 20px; box-shadow: 0 2px 4px rgba(0,0,0,0.1); }
        .status-dot { display: inline-block; width: 12px; height: 12px; border-radius: 50%; margin-right: 8px; background-color: #adb5bd; }
        .status-active { background-color: #28a745; }
        .status-danger { background-color: #dc3545; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(320px, 1fr)); gap: 20px; }
        .card { background: white; border-radius: 10px; padding: 20px; box-shadow: 0 4px 6px rgba(0,0,0,0.1); }
        .card h3 { margin-top: 0; color: #333; border-bottom: 2px solid #eee; padding-bottom: 10px; }
        .metric { display: flex; justify-content: space-between; padding: 8px 0; border-bottom: 1px solid #eee; }
        .metric:last-child { border-bottom: none; }
        .metric-label { font-weight: 500; color: #666; }
        .metric-value { font-weight: bold; color: #333; }
        .metric-positive { color: #28a745; }
        .metric-negative { color: #dc3545; }
        table { width: 100%; border-collapse: collapse; }
        th, td { text-align: left; padding: 6px 8px; border-bottom: 1px solid #eee; }
        th { background-color: #f8f9fa; font-weight: 600; }
        td.num { text-align: right; }
        .bar { height: 8px; background-color: #1c7ed6; border-radius: 4px; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>Supermarket Sales Analytics</h1>
        </div>

        <div class="status-bar">
            <div><span class="status-dot" id="conn-status"></span><span id="conn-text">Connecting...</span></div>
            <div id="last-update">Last Updated: --</div>
        </div>

        <div class="grid">
            <div class="card">
                <h3>Overview</h3>
                <div class="metric"><span class="metric-label">Predictions</span><span class="metric-value" id="predictions">0</span></div>
                <div class="metric"><span class="metric-label">Predicted Sales</span><span class="metric-value" id="total">$0.00</span></div>
                <div class="metric"><span class="metric-label">Average Ticket</span><span class="metric-value" id="mean">$0.00</span></div>
                <div class="metric"><span class="metric-label">Range</span><span class="metric-value" id="range">--</span></div>
                <div class="metric"><span class="metric-label">Mean Confidence</span><span class="metric-value" id="confidence">--</span></div>
                <div class="metric"><span class="metric-label">Unseen Categories</span><span class="metric-value" id="degraded">0</span></div>
            </div>

            <div class="card">
                <h3>Feature Importance</h3>
                <table>
                    <thead><tr><th>Feature</th><th>Mean |contribution|</th><th>Mean</th></tr></thead>
                    <tbody id="features-body"><tr><td colspan="3">No attributions yet</td></tr></tbody>
                </table>
            </div>

            <div class="card">
                <h3>Recent Predictions</h3>
                <table>
                    <thead><tr><th>Time</th><th>Branch</th><th>Product line</th><th>Estimate</th></tr></thead>
                    <tbody id="recent-body"><tr><td colspan="4">No predictions yet</td></tr></tbody>
                </table>
            </div>
            {{range .Dimensions}}
            <div class="card">
                <h3>By {{.}}</h3>
                <table>
                    <thead><tr><th>{{.}}</th><th>Count</th><th>Total</th><th>Mean</th></tr></thead>
                    <tbody data-dimension="{{.}}"><tr><td colspan="4">--</td></tr></tbody>
                </table>
            </div>
            {{end}}
        </div>
    </div>

    <script>
        function money(v) {
            return '$' + Number(v).toLocaleString('en-US', { minimumFractionDigits: 2, maximumFractionDigits: 2 });
        }

        function cell(text, cls) {
            const td = document.createElement('td');
            td.textContent = text;
            if (cls) { td.className = cls; }
            return td;
        }

        function fill(tbody, rows, cols, empty) {
            tbody.innerHTML = '';
            if (!rows || rows.length === 0) {
                const tr = document.createElement('tr');
                const td = cell(empty);
                td.colSpan = cols;
                tr.appendChild(td);
                tbody.appendChild(tr);
                return;
            }
            rows.forEach(function(cells) {
                const tr = document.createElement('tr');
                cells.forEach(function(c) { tr.appendChild(c); });
                tbody.appendChild(tr);
            });
        }

        function updateDashboard(data) {
            document.getElementById('last-update').textContent = 'Last Updated: ' + new Date(data.timestamp).toLocaleTimeString();
            document.getElementById('predictions').textContent = data.predictions;
            document.getElementById('total').textContent = money(data.total);
            document.getElementById('mean').textContent = money(data.mean);
            document.getElementById('range').textContent = data.predictions > 0 ? money(data.min) + ' - ' + money(data.max) : '--';
            document.getElementById('confidence').textContent = data.scored > 0 ? data.meanConfidence.toFixed(2) + '%' : '--';
            document.getElementById('degraded').textContent = data.degraded;

            fill(document.getElementById('features-body'), (data.topFeatures || []).map(function(f) {
                return [cell(f.name), cell(f.importance_score.toFixed(2), 'num'),
                    cell(f.mean_contribution.toFixed(2), 'num ' + (f.mean_contribution >= 0 ? 'metric-positive' : 'metric-negative'))];
            }), 3, 'No attributions yet');

            fill(document.getElementById('recent-body'), (data.recent || []).map(function(r) {
                return [cell(new Date(r.timestamp).toLocaleTimeString()), cell(r.branch), cell(r.productLine), cell(money(r.estimate), 'num')];
            }), 4, 'No predictions yet');

            document.querySelectorAll('tbody[data-dimension]').forEach(function(tbody) {
                const groups = (data.breakdowns || {})[tbody.dataset.dimension] || [];
                fill(tbody, groups.map(function(g) {
                    return [cell(g.key), cell(g.count, 'num'), cell(money(g.total), 'num'), cell(money(g.mean), 'num')];
                }), 4, '--');
            });
        }

        function connect() {
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            const ws = new WebSocket(scheme + location.host + '/ws');
            const dot = document.getElementById('conn-status');
            const text = document.getElementById('conn-text');

            ws.onopen = function() {
                dot.className = 'status-dot status-active';
                text.textContent = 'Live';
            };
            ws.onmessage = function(event) {
                updateDashboard(JSON.parse(event.data));
            };
            ws.onclose = function() {
                dot.className = 'status-dot status-danger';
                text.textContent = 'Disconnected, retrying...';
                setTimeout(connect, 5000);
            };
        }

        connect();
    </script>
</body>
</html>
`
