package ultralytics

// markerPrefix starts every protocol line the helper prints on stdout.
const markerPrefix = "@@yolo-export "

// exportScript is run as: python export.py <weights> <format> <imgsz> <simplify 0|1>
//
// It reports through marker lines carrying one JSON object each:
//
//	{"event": "loaded", "weights": ...}
//	{"event": "exported", "path": ...}
//	{"event": "missing", "module": ..., "error": ...}   exit 3
//	{"event": "error", "type": ..., "error": ...}       exit 1
const exportScript = `#!/usr/bin/env python3
# -*- coding: utf-8 -*-
import json
import sys

MARK = "@@yolo-export "


def emit(event, **fields):
    fields["event"] = event
    sys.stdout.write(MARK + json.dumps(fields) + "\n")
    sys.stdout.flush()


def missing(exc):
    emit("missing", module=getattr(exc, "name", None) or "ultralytics", error=str(exc))
    return 3


def main(argv):
    weights, fmt, imgsz, simplify = argv[1], argv[2], int(argv[3]), argv[4] == "1"

    try:
        from ultralytics import YOLO
    except ImportError as exc:
        return missing(exc)

    try:
        model = YOLO(weights)
        emit("loaded", weights=weights)
        path = model.export(format=fmt, imgsz=imgsz, simplify=simplify)
        emit("exported", path=str(path) if path else "")
    except ImportError as exc:
        return missing(exc)
    except Exception as exc:
        emit("error", type=type(exc).__name__, error=str(exc))
        return 1
    return 0


if __name__ == "__main__":
    sys.exit(main(sys.argv))
`
